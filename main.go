/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/hirelab/assessor/cmd"

func main() {
	cmd.Execute()
}
