package main

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newHealthcheckCmd(rf *rootFlags) *cobra.Command {
	var target, listen string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "探测 /healthz，供容器健康检查使用",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u := target
			if u == "" {
				if listen == "" {
					cfg, err := rf.load()
					if err != nil {
						return err
					}
					listen = cfg.Listen
				}
				var err error
				if u, err = deriveHealthzURL(listen); err != nil {
					return err
				}
			}
			return runHealthcheck(u, timeout)
		},
	}
	cmd.Flags().StringVar(&target, "url", "", "完整的 healthz URL")
	cmd.Flags().StringVar(&listen, "listen", "", "服务监听地址，用来推导 healthz URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "请求超时")
	return cmd
}

// deriveHealthzURL turns a listen address into a loopback URL. Wildcard
// hosts are probed on 127.0.0.1.
func deriveHealthzURL(listen string) (string, error) {
	s := strings.TrimSpace(listen)
	if s == "" {
		return "", fmt.Errorf("listen is empty")
	}
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", err
		}
		u.Path = "/healthz"
		u.RawQuery = ""
		return u.String(), nil
	}
	if !strings.Contains(s, ":") {
		s = ":" + s
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return "", err
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/healthz", nil
}

func runHealthcheck(u string, timeout time.Duration) error {
	c := &http.Client{Timeout: timeout}
	resp, err := c.Get(u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}
