package cmd

import (
	"fmt"
)

const banner = `
  ______ _      _     _ _            _
 |  ____(_)    | |   | | |          | |
 | |__   _  ___| | __| | | ___   ___| | __
 |  __| | |/ _ \ |/ _` + "`" + ` | |/ _ \ / __| |/ /
 | |    | |  __/ | (_| | | (_) | (__|   <
 |_|    |_|\___|_|\__,_|_|\___/ \___|_|\_\

`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Field Encryption Service - Version %s\x1b[0m\n\n", Version)
}
