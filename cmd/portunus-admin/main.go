package main

import "github.com/Gostdragon/IoT-Door-Control-System/internal/cli"

func main() {
	cli.Execute()
}
