package main

import "github.com/andresmejia3/facebench/cmd"

func main() {
	cmd.Execute()
}
