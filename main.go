// The main package for the douban-crawler executable.
package main

import (
	"github.com/fairyland/douban-crawler/cmd"
)

func main() {
	cmd.Execute()
}
