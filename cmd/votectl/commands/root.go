package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Options 全局参数
type Options struct {
	Server  string
	Address string
}

// NewRootCmd 创建votectl命令树
func NewRootCmd() *cobra.Command {
	opts := &Options{}

	rootCmd := &cobra.Command{
		Use:           "votectl",
		Short:         "votectl - A cli tool for the confidential voting backend",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&opts.Server, "server", "http://localhost:8090", "voting backend base url")
	rootCmd.PersistentFlags().StringVar(&opts.Address, "address", "", "caller wallet address")

	rootCmd.AddCommand(
		newCreatePollCmd(opts),
		newPollInfoCmd(opts),
		newListPollsCmd(opts),
		newVoteCmd(opts),
		newEndPollCmd(opts),
		newDeletePollCmd(opts),
		newClearPollsCmd(opts),
		newWinnerCmd(opts),
		newWatchCmd(),
	)
	return rootCmd
}

// Execute 执行命令
func Execute() {
	cobra.CheckErr(NewRootCmd().Execute())
}

// FormatOutput 缩进输出JSON
func FormatOutput(w io.Writer, o []byte) error {
	var out bytes.Buffer
	err := json.Indent(&out, o, "", "\t")
	if err != nil {
		return err
	}
	out.Write([]byte("\n"))
	_, err = out.WriteTo(w)

	return err
}

// client 调用投票服务HTTP接口
type client struct {
	base    string
	address string
	http    *http.Client
}

func newClient(opts *Options) *client {
	return &client{
		base:    strings.TrimRight(opts.Server, "/"),
		address: opts.Address,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError 服务端返回的错误
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("request failed with status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

func (c *client) do(method, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.address != "" {
		req.Header.Set("X-Wallet-Address", c.address)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return nil, apiErr
	}
	return data, nil
}

// requireAddress 写操作需要 --address
func requireAddress(opts *Options) error {
	if opts.Address == "" {
		return fmt.Errorf("--address is required for this command")
	}
	return nil
}
