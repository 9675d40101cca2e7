// Package app はサブコマンドごとの起動処理と依存関係のワイヤリングを行う。
package app

import "strings"

// Command は起動モード。
type Command string

const (
	// CommandServe はHTTP APIを起動する。
	CommandServe Command = "serve"
	// CommandWorker は処理済みWebhookイベントを定期的に削除する。
	CommandWorker Command = "worker"
	// CommandMigrate は埋め込みマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はローカルの/healthを叩いて終了コードで結果を返す。
	// シェルを持たないイメージのHEALTHCHECK用。
	CommandHealthcheck Command = "healthcheck"
)

var knownCommands = map[Command]bool{
	CommandServe:       true,
	CommandWorker:      true,
	CommandMigrate:     true,
	CommandHealthcheck: true,
}

// ParseCommand はos.Args[1:]の先頭からCommandを決める。大文字小文字は区別しない。
// 2つ目以降の引数は無視し、空または未知の値はCommandServeとみなす。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	cmd := Command(strings.ToLower(strings.TrimSpace(args[0])))
	if !knownCommands[cmd] {
		return CommandServe
	}
	return cmd
}
