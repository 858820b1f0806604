package main

import "github.com/fieldlock/fieldlock/cmd/fieldlock/cmd"

func main() {
	cmd.Execute()
}
