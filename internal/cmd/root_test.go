package cmd

import "testing"

func TestRootCmd_HasExpectedSubcommands(t *testing.T) {
	root := NewRootCmd()
	want := map[string]bool{
		"init": false, "start": false, "stop": false, "status": false,
		"ls": false, "new": false, "attach": false, "send": false, "version": false,
	}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}
