// Command otl is the host tool for buck50 logic analyzers.
package main

import "github.com/OpenTraceLab/OpenTraceLogic/cmd/otl/cmd"

func main() {
	cmd.Execute()
}
