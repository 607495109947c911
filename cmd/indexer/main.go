// Package main 是离线索引器的入口点。
// 扫描文档目录（或对象存储前缀），把文档切块、向量化并写入向量索引；
// 带 -produce 时只投递 Kafka 任务，由服务端消费者异步处理。
package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"pai-docs-chat/internal/config"
	"pai-docs-chat/internal/markdown"
	"pai-docs-chat/internal/pipeline"
	"pai-docs-chat/internal/repository"
	"pai-docs-chat/pkg/database"
	"pai-docs-chat/pkg/embedding"
	"pai-docs-chat/pkg/es"
	"pai-docs-chat/pkg/kafka"
	"pai-docs-chat/pkg/log"
	"pai-docs-chat/pkg/storage"
	"pai-docs-chat/pkg/tasks"
	"pai-docs-chat/pkg/tika"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	docsDir := flag.String("docs-dir", "./docs", "文档目录")
	pattern := flag.String("pattern", "", "只索引路径包含该子串的文件")
	objectPrefix := flag.String("object-prefix", "", "改为索引对象存储中该前缀下的对象")
	force := flag.Bool("force", false, "跳过变更检测，强制重建全部向量")
	produce := flag.Bool("produce", false, "不在本地处理，把任务投递到 Kafka")
	flag.Parse()

	config.Init(*configPath)
	cfg := config.Conf
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()

	ctx := context.Background()
	taskList, err := collectTasks(ctx, cfg, *docsDir, *pattern, *objectPrefix, *force)
	if err != nil {
		log.Fatalf("扫描文档失败: %v", err)
	}
	if len(taskList) == 0 {
		log.Warnf("没有发现可索引的文档")
		return
	}
	log.Infof("[Indexer] 共发现 %d 个文档", len(taskList))

	if *produce {
		produceTasks(cfg, taskList)
		return
	}

	// 本地直跑完整索引管线
	database.InitMySQL(cfg.Database.MySQL.DSN)

	esClient, err := es.NewClient(cfg.Elasticsearch, cfg.Embedding.Dimensions)
	if err != nil {
		log.Fatal("es 初始化失败", err)
	}
	if err := esClient.EnsureIndex(ctx); err != nil {
		log.Fatal("创建向量索引失败", err)
	}

	documentRepo := repository.NewDocumentRepository(database.DB)
	processor := pipeline.NewProcessor(
		tika.NewClient(cfg.Tika),
		embedding.NewClient(cfg.Embedding),
		esClient,
		documentRepo,
		cfg.Index,
		cfg.Embedding,
	)

	indexed, skipped, failed, chunks := 0, 0, 0, 0
	for _, task := range taskList {
		var result *pipeline.Result
		var err error
		if task.ObjectName != "" {
			result, err = processor.IndexObject(ctx, task.ObjectName, task.Force)
		} else {
			result, err = processor.IndexFile(ctx, task.FilePath, task.Force)
		}
		if err != nil {
			failed++
			log.Errorf("[Indexer] 索引失败: %s: %v", task.Key(), err)
			continue
		}
		if result.Skipped {
			skipped++
			continue
		}
		indexed++
		chunks += result.ChunkCount
	}

	log.Infof("[Indexer] 完成: 索引 %d, 跳过 %d, 失败 %d, 共 %d 个分块", indexed, skipped, failed, chunks)
	if total, err := documentRepo.Count(ctx); err != nil {
		log.Warnf("[Indexer] 统计库内文档数量失败: %v", err)
	} else {
		log.Infof("[Indexer] 库内文档总数: %d", total)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// collectTasks 汇总本次要索引的文档。指定 -object-prefix 时遍历对象存储，
// 否则递归扫描本地文档目录。
func collectTasks(ctx context.Context, cfg config.Config, docsDir, pattern, objectPrefix string, force bool) ([]tasks.DocumentIndexTask, error) {
	if objectPrefix != "" {
		if cfg.MinIO.Endpoint == "" {
			return nil, fmt.Errorf("使用 -object-prefix 需要配置 MinIO")
		}
		storage.InitMinIO(cfg.MinIO)
		names, err := storage.ListObjects(ctx, objectPrefix)
		if err != nil {
			return nil, err
		}
		taskList := make([]tasks.DocumentIndexTask, 0, len(names))
		for _, name := range names {
			taskList = append(taskList, tasks.DocumentIndexTask{ObjectName: name, Force: force})
		}
		return taskList, nil
	}

	files, err := collectFiles(docsDir, pattern)
	if err != nil {
		return nil, err
	}
	taskList := make([]tasks.DocumentIndexTask, 0, len(files))
	for _, file := range files {
		taskList = append(taskList, tasks.DocumentIndexTask{FilePath: file, Force: force})
	}
	return taskList, nil
}

// produceTasks 把每个文档投递为一个 Kafka 索引任务。
func produceTasks(cfg config.Config, taskList []tasks.DocumentIndexTask) {
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	kafka.InitProducer(cfg.Kafka)

	produced := 0
	for _, task := range taskList {
		if err := kafka.ProduceIndexTask(task); err != nil {
			log.Errorf("[Indexer] 投递任务失败: %s: %v", task.Key(), err)
			continue
		}
		produced++
	}
	log.Infof("[Indexer] 已投递 %d/%d 个索引任务", produced, len(taskList))
}

// collectFiles 递归扫描目录，返回 markdown 文档的路径列表。
func collectFiles(dir, pattern string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// 跳过隐藏目录
			if name := d.Name(); name != "." && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !markdown.IsMarkdown(path) {
			return nil
		}
		if pattern != "" && !strings.Contains(path, pattern) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("遍历目录 %s 失败: %w", dir, err)
	}
	return files, nil
}
