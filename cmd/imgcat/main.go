// Command imgcat fingerprints image libraries and serves similarity search.
package main

import "imgcat/internal/cli"

func main() {
	cli.Execute()
}
