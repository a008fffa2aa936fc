// Copyright (c) Jarvis Authors.
// Licensed under the MIT License.

/*
Package migration 管理 messages 表的 Schema 迁移，基于 golang-migrate。

SQL 文件按方言内嵌在 migrations/{postgres,mysql,sqlite} 下，命名为
NNNNNN_name.{up,down}.sql。连接通过 internal/database 打开，sqlite 使用
纯 Go 驱动，因此迁移与 GORM 历史存储可共用同一个数据库文件。

# 核心类型

  - Migrator：Up、Down、Steps、Version、Status、Info、Close。
  - DefaultMigrator：golang-migrate 实现，ctx 取消时优雅停止。
  - CLI：jarvis migrate 子命令的格式化输出。
*/
package migration
