package main

import "github.com/calebwray/tempo/internal/cmd"

func main() {
	cmd.Execute()
}
