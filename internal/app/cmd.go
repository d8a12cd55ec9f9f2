package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は件数カウンタの再集計ワーカーとして起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はDockerのHEALTHCHECK用。設定の読み込みを行わない。
	CommandHealthcheck Command = "healthcheck"
	// CommandToken は開発用の署名付きトークンを標準出力に書き出すことを示す。
	CommandToken Command = "token"
)

var knownCommands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
	string(CommandToken):       CommandToken,
}

// LookupCommand はサブコマンド名に対応するCommandを返す。
func LookupCommand(name string) (Command, bool) {
	cmd, ok := knownCommands[name]
	return cmd, ok
}

// ParseCommand はコマンドライン引数の先頭をサブコマンドとして解釈する。
// 引数が空または未知の名前の場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := LookupCommand(args[0]); ok {
		return cmd
	}
	return CommandServe
}
