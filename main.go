package main

import (
	"fmt"

	"github.com/webitel/agent-event-bus/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
