// Copyright (c) Jarvis Authors.
// Licensed under the MIT License.

/*
Package database 封装 GORM 连接的打开、连接池配置与事务重试。

# 核心类型

  - PoolManager：持有 *gorm.DB 与底层 *sql.DB，提供 DB()、Ping()、
    Stats()、Close()，并可在后台定时探活。
  - PoolConfig：连接池参数。
  - Open：按驱动名（postgres、mysql、sqlite）构造 Dialector 并打开连接。

sqlite 使用纯 Go 的 github.com/glebarez/sqlite，无需 cgo。
*/
package database
