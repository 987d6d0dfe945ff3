// nearbyctl：命令行一次性执行附近检索，或查看数据源目录
package main

import (
	"fmt"
	"os"

	"geo-nearby/internal/config"
	"geo-nearby/internal/logger"
)

func main() {
	config.LoadDotEnv()
	logger.Setup()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
