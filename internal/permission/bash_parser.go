package permission

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// BashCommand is one leaf command of a shell command line.
type BashCommand struct {
	Text       string   // Source text of the command, including redirects
	Name       string   // Command name (e.g., "rm", "git")
	Args       []string // Command arguments
	Subcommand string   // First non-flag argument (e.g., "commit" in "git commit")
	// Dynamic is set when the command's effect cannot be judged from its
	// text: command or process substitution, a variable command name, or a
	// compound construct such as a loop or function.
	Dynamic bool
}

// ParseBashCommand splits a command line into its leaf commands.
// Pipelines, && / || chains, lists, subshells and blocks are flattened;
// commands nested in substitutions are returned as leaves of their own.
func ParseBashCommand(command string) ([]BashCommand, error) {
	parser := syntax.NewParser(
		syntax.Variant(syntax.LangBash),
		syntax.KeepComments(false),
	)

	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return nil, fmt.Errorf("failed to parse command: %w", err)
	}

	c := &collector{src: command}
	for _, stmt := range file.Stmts {
		c.stmt(stmt)
	}
	return c.out, nil
}

type collector struct {
	src string
	out []BashCommand
}

func (c *collector) text(node syntax.Node) string {
	start, end := int(node.Pos().Offset()), int(node.End().Offset())
	if start < 0 || end > len(c.src) || start >= end {
		return ""
	}
	return strings.TrimRight(strings.TrimSpace(c.src[start:end]), ";&")
}

func (c *collector) stmt(stmt *syntax.Stmt) {
	switch cmd := stmt.Cmd.(type) {
	case *syntax.BinaryCmd:
		c.stmt(cmd.X)
		c.stmt(cmd.Y)
	case *syntax.Subshell:
		for _, s := range cmd.Stmts {
			c.stmt(s)
		}
	case *syntax.Block:
		for _, s := range cmd.Stmts {
			c.stmt(s)
		}
	case *syntax.CallExpr:
		leaf := extractCommand(cmd)
		leaf.Text = strings.TrimSpace(c.text(stmt))
		if stmt.Background || strings.HasPrefix(leaf.Name, "$") {
			leaf.Dynamic = true
		}
		idx := len(c.out)
		c.out = append(c.out, leaf)
		if c.nested(cmd) {
			c.out[idx].Dynamic = true
		}
	case nil:
		// Bare redirection such as "> file".
		c.out = append(c.out, BashCommand{Text: c.text(stmt), Dynamic: true})
	default:
		c.out = append(c.out, BashCommand{Text: c.text(stmt), Dynamic: true})
		syntax.Walk(cmd, func(node syntax.Node) bool {
			if inner, ok := node.(*syntax.Stmt); ok {
				c.stmt(inner)
				return false
			}
			return true
		})
	}
}

// nested collects commands hidden in substitutions below node and reports
// whether any were found.
func (c *collector) nested(node syntax.Node) bool {
	found := false
	syntax.Walk(node, func(n syntax.Node) bool {
		switch sub := n.(type) {
		case *syntax.CmdSubst:
			found = true
			for _, s := range sub.Stmts {
				c.stmt(s)
			}
			return false
		case *syntax.ProcSubst:
			found = true
			for _, s := range sub.Stmts {
				c.stmt(s)
			}
			return false
		}
		return true
	})
	return found
}

// extractCommand extracts command name and arguments from a CallExpr.
func extractCommand(call *syntax.CallExpr) BashCommand {
	cmd := BashCommand{}
	if len(call.Args) == 0 {
		return cmd
	}

	cmd.Name = wordToString(call.Args[0])
	for _, arg := range call.Args[1:] {
		argStr := wordToString(arg)
		cmd.Args = append(cmd.Args, argStr)

		if cmd.Subcommand == "" && !strings.HasPrefix(argStr, "-") {
			cmd.Subcommand = argStr
		}
	}
	return cmd
}

// wordToString converts a syntax.Word to a string.
func wordToString(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				if lit, ok := qp.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		case *syntax.ParamExp:
			sb.WriteString("$" + p.Param.Value)
		case *syntax.CmdSubst:
			sb.WriteString("$()")
		}
	}
	return sb.String()
}

// DangerousCommands modify or remove files; suggestions for them are exact
// rather than prefix rules.
var DangerousCommands = map[string]bool{
	"rm":    true,
	"cp":    true,
	"mv":    true,
	"dd":    true,
	"chmod": true,
	"chown": true,
	"rmdir": true,
	"sudo":  true,
	"curl":  true,
	"wget":  true,
}

// IsDangerousCommand checks if a command is in the dangerous list.
func IsDangerousCommand(name string) bool {
	return DangerousCommands[name]
}
