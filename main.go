package main

import "github.com/unitybridge/unitybridge/cmd"

func main() {
	cmd.Execute()
}
