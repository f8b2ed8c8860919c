package protocol

import (
	"path"
	"strings"
)

// 消息类型
const (
	TypeText  = "text"
	TypeImage = "image"
	TypeVoice = "voice"
	TypeFile  = "file"
	TypeVideo = "video"
)

var (
	audioExts = map[string]struct{}{".m4a": {}, ".mp3": {}, ".wav": {}, ".ogg": {}, ".webm": {}, ".aac": {}, ".opus": {}}
	imageExts = map[string]struct{}{".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".bmp": {}, ".heic": {}}
)

// InferKind 显式类型优先；否则按媒体key扩展名推断，音频为voice、图片为image、其余为file；无媒体为text
func InferKind(explicit, mediaKey string) string {
	if explicit != "" {
		return strings.ToLower(explicit)
	}
	if mediaKey == "" {
		return TypeText
	}
	// 去掉可能的查询串
	if i := strings.IndexAny(mediaKey, "?#"); i >= 0 {
		mediaKey = mediaKey[:i]
	}
	ext := strings.ToLower(path.Ext(mediaKey))
	if _, ok := audioExts[ext]; ok {
		return TypeVoice
	}
	if _, ok := imageExts[ext]; ok {
		return TypeImage
	}
	return TypeFile
}
