/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/accountkit/authserver/cmd"

func main() {
	cmd.Execute()
}
