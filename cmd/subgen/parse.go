package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/John-Robertt/subgen-go/internal/model"
	"github.com/John-Robertt/subgen-go/internal/sub/uri"
)

func newParseCmd(rf *rootFlags) *cobra.Command {
	var in inputFlags
	cmd := &cobra.Command{
		Use:   "parse [files...]",
		Short: "解析订阅并打印节点与错误摘要",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rf.load()
			if err != nil {
				return err
			}
			nodes, errs, err := collectInputs(cmd.Context(), cfg, in, args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return printSummary(cmd.OutOrStdout(), nodes, errs)
		},
	}
	in.register(cmd)
	return cmd
}

func printSummary(w io.Writer, nodes []model.Proxy, errs []*uri.ParseError) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tNAME\tSERVER")
	for _, p := range nodes {
		b := p.Common()
		fmt.Fprintf(tw, "%s\t%s\t%s:%d\n", p.Type(), b.Name, b.Server, b.Port)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	byType := lo.CountValuesBy(nodes, func(p model.Proxy) model.ProxyType { return p.Type() })
	fmt.Fprintf(w, "\n%d nodes, %d errors\n", len(nodes), len(errs))
	for _, t := range []model.ProxyType{model.TypeSS, model.TypeVMess, model.TypeVLESS, model.TypeTrojan, model.TypeHysteria2, model.TypeTUIC} {
		if n := byType[t]; n > 0 {
			fmt.Fprintf(w, "  %-10s %d\n", t, n)
		}
	}
	for _, e := range errs {
		a := e.AppError
		fmt.Fprintf(w, "line %d: %s [%s] %s\n", a.Line, a.Code, a.Message, a.Snippet)
	}
	return nil
}
