package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/sadewadee/saori/internal/logging"
	"github.com/sadewadee/saori/internal/module"
	"github.com/sadewadee/saori/internal/protocol"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	dim    = color.New(color.Faint).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

type requestView struct {
	Command       string   `yaml:"command"`
	Version       string   `yaml:"version"`
	Charset       string   `yaml:"charset"`
	SecurityLevel string   `yaml:"security_level,omitempty"`
	Sender        string   `yaml:"sender,omitempty"`
	Arguments     []string `yaml:"arguments,omitempty"`
}

type responseView struct {
	Version string   `yaml:"version"`
	Status  int      `yaml:"status"`
	Reason  string   `yaml:"reason"`
	Charset string   `yaml:"charset"`
	Result  string   `yaml:"result,omitempty"`
	Values  []string `yaml:"values,omitempty"`
}

func viewRequest(req *protocol.Request) requestView {
	v := requestView{
		Command:   req.Command().String(),
		Version:   req.Version().String(),
		Charset:   req.Charset().String(),
		Arguments: req.Arguments(),
	}
	if level, ok := req.SecurityLevel(); ok {
		v.SecurityLevel = level.String()
	}
	if sender, ok := req.Sender(); ok {
		v.Sender = sender
	}
	return v
}

func viewResponse(resp *protocol.Response) responseView {
	return responseView{
		Version: resp.Version().String(),
		Status:  resp.Status().Code(),
		Reason:  resp.Status().Text(),
		Charset: resp.Charset().String(),
		Result:  resp.Result(),
		Values:  resp.Values(),
	}
}

func statusColor(s protocol.Status) func(a ...any) string {
	switch s {
	case protocol.StatusOK:
		return green
	case protocol.StatusNoContent:
		return yellow
	default:
		return red
	}
}

func printRequest(w io.Writer, req *protocol.Request) {
	v := viewRequest(req)
	fmt.Fprintf(w, "%s %s %s\n", bold("Request:"), cyan(v.Command), v.Version)
	fmt.Fprintf(w, "%s %s\n", bold("Charset:"), v.Charset)
	if v.SecurityLevel != "" {
		fmt.Fprintf(w, "%s %s\n", bold("SecurityLevel:"), v.SecurityLevel)
	}
	if v.Sender != "" {
		fmt.Fprintf(w, "%s %s\n", bold("Sender:"), v.Sender)
	}
	for i, arg := range v.Arguments {
		fmt.Fprintf(w, "  %s %s\n", dim("Argument"+strconv.Itoa(i)+":"), arg)
	}
}

func printResponse(w io.Writer, resp *protocol.Response) {
	v := viewResponse(resp)
	paint := statusColor(resp.Status())
	fmt.Fprintf(w, "%s %s\n", bold("Status:"), paint(fmt.Sprintf("%d %s", v.Status, v.Reason)))
	fmt.Fprintf(w, "%s %s\n", bold("Charset:"), v.Charset)
	if v.Result != "" {
		fmt.Fprintf(w, "%s %s\n", bold("Result:"), v.Result)
	}
	for i, value := range v.Values {
		fmt.Fprintf(w, "  %s %s\n", dim("Value"+strconv.Itoa(i)+":"), value)
	}
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// decodeCmd decodes a captured request, or a response when the bytes
// start with a status line.
func decodeCmd(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("decode", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	output := fs.String("o", "text", "output format: text or yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *output != "text" && *output != "yaml" {
		return fmt.Errorf("unknown output format %q", *output)
	}

	raw, err := readInput(fs.Arg(0), stdin)
	if err != nil {
		return err
	}

	if bytes.HasPrefix(raw, []byte(protocol.Version10.String()+" ")) {
		resp, err := protocol.DecodeResponse(raw)
		if err != nil {
			return err
		}
		if *output == "yaml" {
			return writeYAML(stdout, viewResponse(resp))
		}
		printResponse(stdout, resp)
		return nil
	}

	req, err := protocol.DecodeRequest(raw)
	if err != nil {
		return fmt.Errorf("decoding request: %w", err)
	}
	if *output == "yaml" {
		return writeYAML(stdout, viewRequest(req))
	}
	printRequest(stdout, req)
	return nil
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// callCmd builds an EXECUTE request and runs it through the built-in
// module in process.
func callCmd(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	charsetName := fs.String("charset", protocol.CharsetUTF8.String(), "request charset")
	sender := fs.String("sender", "", "Sender header")
	security := fs.String("security", "", "SecurityLevel header: Local or External")
	output := fs.String("o", "text", "output format: text, yaml or raw")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("function name required")
	}

	charset, err := protocol.ParseCharset(*charsetName)
	if err != nil {
		return err
	}

	req := protocol.NewRequest(protocol.CommandExecute, charset, fs.Args()...)
	if *sender != "" {
		req = req.WithSender(*sender)
	}
	if *security != "" {
		level, ok := protocol.ParseSecurityLevel(*security)
		if !ok {
			return fmt.Errorf("unknown security level %q", *security)
		}
		req = req.WithSecurityLevel(level)
	}

	raw, err := req.Bytes()
	if err != nil {
		return err
	}

	m := module.New("saori", logging.Discard())
	if err := m.EnableBuiltins(nil); err != nil {
		return err
	}
	out := m.Handle(context.Background(), raw)

	switch *output {
	case "raw":
		_, err := stdout.Write(out)
		return err
	case "yaml", "text":
	default:
		return fmt.Errorf("unknown output format %q", *output)
	}

	resp, err := protocol.DecodeResponse(out)
	if err != nil {
		return err
	}
	if *output == "yaml" {
		return writeYAML(stdout, viewResponse(resp))
	}
	printResponse(stdout, resp)
	return nil
}
