package router

import "strings"

// command is the classification of a free-text message.
type command int

const (
	cmdCancel command = iota
	cmdConfirm
	cmdStatus
	cmdHelp
	cmdApprove
	cmdDeny
	cmdPending
	cmdDefault
)

// keyword sets per command, checked in declaration order. The first
// category with any substring match wins, so "please cancel and confirm"
// classifies as cancel.
var commandKeywords = []struct {
	cmd      command
	keywords []string
}{
	{cmdCancel, []string{"cancel", "cancelar"}},
	{cmdConfirm, []string{"confirm", "confirmar"}},
	{cmdStatus, []string{"status", "estado"}},
	{cmdHelp, []string{"help", "ayuda"}},
	{cmdApprove, []string{"approve"}},
	{cmdDeny, []string{"deny", "reject"}},
	{cmdPending, []string{"pending", "list"}},
}

func classify(body string) command {
	b := strings.ToLower(body)
	for _, set := range commandKeywords {
		for _, kw := range set.keywords {
			if strings.Contains(b, kw) {
				return set.cmd
			}
		}
	}
	return cmdDefault
}
