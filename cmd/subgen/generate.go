package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/subgen-go/internal/catalog"
	"github.com/John-Robertt/subgen-go/internal/compiler"
	"github.com/John-Robertt/subgen-go/internal/config"
	"github.com/John-Robertt/subgen-go/internal/fetch"
	"github.com/John-Robertt/subgen-go/internal/log"
	"github.com/John-Robertt/subgen-go/internal/model"
	"github.com/John-Robertt/subgen-go/internal/render"
	"github.com/John-Robertt/subgen-go/internal/sub"
	"github.com/John-Robertt/subgen-go/internal/sub/uri"
)

type inputFlags struct {
	urls    []string
	prefix  string
	workers int
}

func (f *inputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&f.urls, "url", nil, "远程订阅地址（可重复）")
	cmd.Flags().StringVar(&f.prefix, "prefix", "", "节点名前缀")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "并行解析的 worker 数（<=1 为串行）")
}

type generateFlags struct {
	input              inputFlags
	rulesets           []string
	noBusiness         bool
	noCountry          bool
	noResidential      bool
	residentialKeyword []string
	output             string
	format             string
}

func newGenerateCmd(rf *rootFlags) *cobra.Command {
	gf := &generateFlags{}
	cmd := &cobra.Command{
		Use:   "generate [files...]",
		Short: "从本地文件、标准输入或订阅地址生成 Clash Meta 配置",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rf.load()
			if err != nil {
				return err
			}
			return runGenerate(cmd.Context(), cfg, gf, args, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	gf.input.register(cmd)
	cmd.Flags().StringSliceVar(&gf.rulesets, "rulesets", nil, "启用的业务规则集 id，逗号分隔")
	cmd.Flags().BoolVar(&gf.noBusiness, "no-business", false, "不生成业务分组")
	cmd.Flags().BoolVar(&gf.noCountry, "no-country", false, "不按国家/地区分组")
	cmd.Flags().BoolVar(&gf.noResidential, "no-residential", false, "不识别家宽节点")
	cmd.Flags().StringArrayVar(&gf.residentialKeyword, "residential-keyword", nil, "额外的家宽关键字（可重复）")
	cmd.Flags().StringVarP(&gf.output, "output", "o", "", "输出文件（默认标准输出）")
	cmd.Flags().StringVar(&gf.format, "format", "yaml", "输出格式：yaml/json")
	return cmd
}

func (gf *generateFlags) options(base model.Settings) compiler.Options {
	opt := compiler.Options{
		GroupByCountry:      !gf.noCountry,
		DetectResidential:   !gf.noResidential,
		ResidentialKeywords: gf.residentialKeyword,
		SelectedRulesets:    gf.rulesets,
		Base:                &base,
	}
	if gf.noBusiness {
		include := false
		opt.IncludeBusinessGroups = &include
	}
	return opt
}

func runGenerate(ctx context.Context, cfg config.Config, gf *generateFlags, files []string, stdin io.Reader, stdout io.Writer) error {
	nodes, errs, err := collectInputs(ctx, cfg, gf.input, files, stdin)
	if err != nil {
		return err
	}
	reportErrors(errs)

	cat, err := catalog.LoadFiles(cfg.Catalog.Business, cfg.Catalog.Supplementary)
	if err != nil {
		return err
	}
	res, err := compiler.Generate(nodes, cat, gf.options(cfg.Base.Settings()))
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		log.Debugln("[Generate] %s", w.Message)
	}

	out, err := render.Render(render.Format(gf.format), res.Config)
	if err != nil {
		return err
	}
	if gf.output == "" {
		_, err = stdout.Write(out)
		return err
	}
	if err := os.WriteFile(gf.output, out, 0o644); err != nil {
		return err
	}
	log.Infoln("wrote %d proxies, %d groups to %s", len(res.Config.Proxies), len(res.Config.ProxyGroups), gf.output)
	return nil
}

// collectInputs parses files (or stdin) and fetched URLs, in that order.
// Reading stdin happens only when neither files nor URLs are given, or for
// a "-" argument.
func collectInputs(ctx context.Context, cfg config.Config, in inputFlags, files []string, stdin io.Reader) ([]model.Proxy, []*uri.ParseError, error) {
	if len(files) == 0 && len(in.urls) == 0 {
		files = []string{"-"}
	}

	var nodes []model.Proxy
	var errs []*uri.ParseError
	add := func(text, source string) {
		res := sub.Parse(text, sub.Options{Prefix: in.prefix, SourceURL: source, Workers: in.workers})
		nodes = append(nodes, res.Nodes...)
		errs = append(errs, res.Errors...)
	}

	for _, f := range files {
		var b []byte
		var err error
		if f == "-" {
			b, err = io.ReadAll(stdin)
		} else {
			b, err = os.ReadFile(f)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", f, err)
		}
		add(string(b), f)
	}

	if len(in.urls) > 0 {
		client := fetch.New(cfg.Fetch.Options())
		for _, r := range client.FetchAll(ctx, in.urls, cfg.Fetch.Concurrency) {
			if r.Err != nil {
				log.Warnln("[Fetch] %s: %v", r.URL, r.Err)
				continue
			}
			add(r.Body, r.URL)
		}
	}
	return nodes, errs, nil
}

func reportErrors(errs []*uri.ParseError) {
	for _, e := range errs {
		a := e.AppError
		log.Warnln("[Parse] %s:%d %s (%s)", a.URL, a.Line, a.Message, a.Snippet)
	}
}
