// The main package for the tendercrawler executable.
package main

import "github.com/tenderwatch/crawler/cmd"

func main() {
	cmd.Execute()
}
