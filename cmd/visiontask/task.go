package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/haasonsaas/visiontask/internal/config"
)

// defaultTask is the canvas form task. The page draws its fields on a
// canvas, so the model has to find them visually.
const defaultTask = `
あなたはブラウザ操作エージェントです。
次のローカルHTMLを開いてUI操作してください：
%s

画面には canvas 上に「氏名」「メール」「送信」ボタンが描かれています。
DOM上にinputやbuttonは存在しません。見た目（Vision）で判断してください。

手順:
1. 「氏名」右側の四角の入力エリアをクリックして, 表示されたalertダイアログに"Taro Yamada" を入力。
2. 「メール」右側の四角の入力エリアをクリックして, 表示されたalertダイアログに"taro@example.com" を入力。
3. 「送信」ボタンをクリック。
4. アラートに表示される送信内容を読み取り、氏名とメールを報告して終了。

注意:
- セレクタやDOM探索に頼らないこと
- クリック位置は見た目ベースで特定すること
- クリック位置の微調整が必要になる場合があること
- 入力欄は画面中央よりやや上側に縦に並んで二つ配置されていること
`

// DefaultTask returns the form task pointed at url.
func DefaultTask(url string) string {
	return fmt.Sprintf(defaultTask, url)
}

// taskText picks the task: inline text, else the task file, else the
// default task for the configured URL.
func taskText(cfg config.TaskConfig) (string, error) {
	if strings.TrimSpace(cfg.Text) != "" {
		return cfg.Text, nil
	}
	if cfg.File != "" {
		data, err := os.ReadFile(cfg.File)
		if err != nil {
			return "", fmt.Errorf("read task file: %w", err)
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			return "", fmt.Errorf("task file %s is empty", cfg.File)
		}
		return text, nil
	}
	return DefaultTask(cfg.URL), nil
}
