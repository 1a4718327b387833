package main

import "estate-crawler/cmd"

func main() {
	cmd.Execute()
}
