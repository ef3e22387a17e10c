package main

import (
	"github.com/ebeecroft/alarmwatch/cmd"
	"github.com/ebeecroft/alarmwatch/internal/recovery"
)

func main() {
	defer recovery.HandlePanic()
	cmd.Execute()
}
