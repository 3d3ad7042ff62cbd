package main

import "github.com/andresmejia3/facegrid/cmd"

func main() {
	cmd.Execute()
}
