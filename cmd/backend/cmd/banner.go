package cmd

import (
	"fmt"
	"io"
)

const banner = `
  ___                 _ _                    
 | __|___ __ _ _ ___ (_) |_ ___ _ _ ___ ___ 
 | _|(_-</ _| '_/ -_)| |  _/ _ \ '_/ -_|_-< 
 |___/__/\__|_| \___||_|\__\___/_| \___/__/ 
         N o g u e i r a   b a c k e n d
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Sessions and identity - Version %s\x1b[0m\n\n", Version)
}
