// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// DocumentIndexTask represents the data structure for a document indexing job.
// 本地文档用 FilePath，MinIO 中的文档用 ObjectName，二者取其一。
type DocumentIndexTask struct {
	FilePath   string `json:"file_path"`
	ObjectName string `json:"object_name,omitempty"`
	// Force 为 true 时跳过内容哈希比对，强制重建该文档的向量
	Force bool `json:"force,omitempty"`
}

// Key 返回任务在失败计数等场景下的去重键。
func (t DocumentIndexTask) Key() string {
	if t.ObjectName != "" {
		return t.ObjectName
	}
	return t.FilePath
}
