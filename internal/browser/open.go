// Package browser はOS既定のブラウザでURLを開く。
package browser

import (
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
)

// command はOSごとのブラウザ起動コマンドを返す。
func command(goos, target string) (*exec.Cmd, error) {
	switch goos {
	case "darwin":
		return exec.Command("open", target), nil
	case "linux":
		return exec.Command("xdg-open", target), nil
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", target), nil
	default:
		return nil, fmt.Errorf("未対応のOSです: %s", goos)
	}
}

// Open はURLを既定のブラウザで開く。httpとhttps以外のURLは拒否する。
func Open(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("URLの解析に失敗: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("ブラウザで開けないURLです: %q", target)
	}
	cmd, err := command(runtime.GOOS, u.String())
	if err != nil {
		return err
	}
	return cmd.Start()
}
