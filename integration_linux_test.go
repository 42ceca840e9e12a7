package main

import (
	"os"
	"strconv"
	"strings"
)

// processGone treats zombies as gone; they are dead but not yet reaped by
// whoever inherited them.
func processGone(pid int) bool {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return true
	}
	stat := string(data)
	idx := strings.LastIndexByte(stat, ')')
	if idx < 0 || idx+2 >= len(stat) {
		return true
	}
	return stat[idx+2] == 'Z' || stat[idx+2] == 'X'
}
