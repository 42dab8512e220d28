// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// scalesim is the teaching container orchestration service: a multi-tenant
// HTTP API over a local docker engine with autoscaling, load testing and
// billing simulation.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "scalesim",
		Short:        "Container orchestration teaching platform",
		SilenceUsage: true,
	}
	root.AddCommand(runCommand(), versionCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
