package main

import "github.com/nethalo/sqlforge/cmd"

func main() {
	cmd.Execute()
}
