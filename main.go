package main

import "github.com/brensch/arxivrefs/cmd"

func main() {
	cmd.Execute()
}
