// Package fingerprint 把一次生成请求的语义字段压成确定性的缓存/去重键。
// 只接收定义"同一个问题"的字段；时间戳、请求ID等易变字段一律不参与。
// 资料版本参与哈希：资料一旦变更版本号递增，旧指纹自然不可达，
// 缓存失效因此是版本的纯函数，无需主动扫描。
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Build 按固定字段顺序计算指纹:
// subjectID | targetID | kind | profileVersion | extra...
// extra用于追加会改变生成结果的选项(调用方负责先做规范化排序)。
// 相同输入恒产生相同指纹；每个字段带长度前缀，拼接无歧义。
func Build(subjectID, targetID, kind string, profileVersion int64, extra ...string) string {
	h := sha256.New()
	writeField(h, subjectID)
	writeField(h, targetID)
	writeField(h, kind)

	var ver [8]byte
	binary.BigEndian.PutUint64(ver[:], uint64(profileVersion))
	h.Write(ver[:])

	for _, f := range extra {
		writeField(h, f)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// writeField 写入长度前缀+内容，防止("ab","c")与("a","bc")产生同样的字节流
func writeField(h interface{ Write(p []byte) (int, error) }, field string) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(field)))
	h.Write(n[:])
	h.Write([]byte(field))
}
