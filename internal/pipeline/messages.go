package pipeline

import (
	"fmt"
	"strings"
	"time"

	"visdom/internal/prompt"
)

type catalog struct {
	generating      string
	generated       string
	renderStart     string
	renderFinished  string
	fixing          string
	repaired        string
	complete        string
	completeRepair  string
	generationError string
	repairError     string
	renderFailed    string
	renderTimeout   string
	artifactMissing string
	internal        string
	cancelled       string
}

var catalogs = map[string]catalog{
	"en": {
		generating:      "generating animation code",
		generated:       "code generated",
		renderStart:     "renderer starting",
		renderFinished:  "render finished, collecting video",
		fixing:          "render failed, asking the model to fix the script",
		repaired:        "script repaired, rendering again",
		complete:        "render complete",
		completeRepair:  "render complete after repair",
		generationError: "code generation failed: %v",
		repairError:     "repair generation failed: %v",
		renderFailed:    "render failed:\n%s",
		renderTimeout:   "render timed out: the animation did not finish within %s, try a simpler formula",
		artifactMissing: "render succeeded but the video file was not found",
		internal:        "internal error: %v",
		cancelled:       "request cancelled",
	},
	"zh": {
		generating:      "正在生成动画代码",
		generated:       "代码生成完成",
		renderStart:     "开始渲染",
		renderFinished:  "渲染完成，正在整理视频",
		fixing:          "渲染失败，正在请求模型修复代码",
		repaired:        "代码已修复，重新渲染",
		complete:        "渲染完成",
		completeRepair:  "修复后渲染完成",
		generationError: "代码生成失败: %v",
		repairError:     "修复代码生成失败: %v",
		renderFailed:    "渲染失败:\n%s",
		renderTimeout:   "渲染超时: 动画未能在 %s 内完成，请尝试更简单的公式",
		artifactMissing: "渲染成功但未找到视频文件",
		internal:        "内部错误: %v",
		cancelled:       "请求已取消",
	},
}

func messagesFor(locale string) catalog {
	return catalogs[prompt.Language(locale)]
}

func (c catalog) failure(tail []string, timedOut bool, timeout time.Duration) string {
	if timedOut {
		return fmt.Sprintf(c.renderTimeout, timeout)
	}
	return fmt.Sprintf(c.renderFailed, strings.Join(tail, "\n"))
}
