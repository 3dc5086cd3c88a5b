package main

import "github.com/escritoresnogueira/backend/cmd/backend/cmd"

func main() {
	cmd.Execute()
}
