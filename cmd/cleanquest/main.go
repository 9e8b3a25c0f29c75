// Command cleanquest はCleanQuestのBFFサーバーを起動する。
//
// サブコマンド:
//
//	serve        BFFサーバーを起動する（既定）
//	worker       期限切れセッションを定期的に削除する
//	migrate      セッションテーブルのマイグレーションを適用する
//	healthcheck  /health を確認する（Dockerヘルスチェック用）
package main

import (
	"fmt"
	"os"

	"github.com/cleanquest/cleanquest-web/internal/app"
)

func main() {
	if err := app.Run(nil, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "cleanquest: %v\n", err)
		os.Exit(1)
	}
}
