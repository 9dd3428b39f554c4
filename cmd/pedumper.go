// Copyright 2021 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"

	peparser "github.com/pescan/pecore"
	"github.com/spf13/cobra"
)

var verbose bool

func prettyPrint(buff []byte) string {
	var prettyJSON bytes.Buffer
	err := json.Indent(&prettyJSON, buff, "", "\t")
	if err != nil {
		log.Println("JSON parse error: ", err)
		return string(buff)
	}

	return prettyJSON.String()
}

func openPE(filename string) (*peparser.File, error) {
	pe, err := peparser.New(filename, &peparser.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening file %s: %w", filename, err)
	}

	if err := pe.Parse(); err != nil {
		pe.Close()
		return nil, fmt.Errorf("parsing file %s: %w", filename, err)
	}
	return pe, nil
}

func dumpLoadConfig(cmd *cobra.Command, args []string) {
	pe, err := openPE(args[0])
	if err != nil {
		log.Print(err)
		return
	}
	defer pe.Close()

	out, _ := json.Marshal(pe.LoadConfig)
	fmt.Println(prettyPrint(out))

	fmt.Printf("version: %s (exact: %v)\n",
		pe.LoadConfig.Version, pe.LoadConfig.VersionExactlyMatches)
	for _, d := range pe.LoadConfig.Errors.Diagnostics() {
		fmt.Printf("anomaly: %s\n", d.Error())
	}
}

func dumpExceptions(cmd *cobra.Command, args []string) {
	pe, err := openPE(args[0])
	if err != nil {
		log.Print(err)
		return
	}
	defer pe.Close()

	switch {
	case len(pe.Exceptions) > 0:
		out, _ := json.Marshal(pe.Exceptions)
		fmt.Println(prettyPrint(out))
		if verbose {
			for _, exc := range pe.Exceptions {
				for _, d := range exc.Diagnostics() {
					fmt.Printf("entry 0x%x: %s\n",
						exc.RuntimeFunction.BeginAddress, d.Error())
				}
			}
		}
	case len(pe.ArmExceptions) > 0:
		out, _ := json.Marshal(pe.ArmExceptions)
		fmt.Println(prettyPrint(out))
	case len(pe.Arm64Exceptions) > 0:
		out, _ := json.Marshal(pe.Arm64Exceptions)
		fmt.Println(prettyPrint(out))
	default:
		fmt.Println("no exception directory")
	}
}

func dumpHeaders(cmd *cobra.Command, args []string) {
	pe, err := openPE(args[0])
	if err != nil {
		log.Print(err)
		return
	}
	defer pe.Close()

	dosHeader, _ := json.Marshal(pe.DOSHeader)
	ntHeader, _ := json.Marshal(pe.NtHeader)
	sections, _ := json.Marshal(pe.Sections)
	fmt.Println(prettyPrint(dosHeader))
	fmt.Println(prettyPrint(ntHeader))
	fmt.Println(prettyPrint(sections))
}

func main() {

	var rootCmd = &cobra.Command{
		Use:   "pedumper",
		Short: "A Portable Executable load config and exception directory dumper",
		Long: "Dumps the Load Configuration and Exception (unwind) directories " +
			"of a Portable Executable file as JSON",
	}

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("You are using version 0.0.1")
		},
	}

	var loadConfigCmd = &cobra.Command{
		Use:   "loadconfig <file>",
		Short: "Dump the load configuration directory",
		Args:  cobra.ExactArgs(1),
		Run:   dumpLoadConfig,
	}

	var exceptionsCmd = &cobra.Command{
		Use:   "exceptions <file>",
		Short: "Dump the exception (unwind) directory",
		Args:  cobra.ExactArgs(1),
		Run:   dumpExceptions,
	}

	var headersCmd = &cobra.Command{
		Use:   "headers <file>",
		Short: "Dump the DOS/NT headers and section table",
		Args:  cobra.ExactArgs(1),
		Run:   dumpHeaders,
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(loadConfigCmd)
	rootCmd.AddCommand(exceptionsCmd)
	rootCmd.AddCommand(headersCmd)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
