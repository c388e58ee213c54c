package prompt

type template struct {
	intro  string
	inputs string
	rules  string
	repair string
	none   string
}

var templates = map[string]template{
	"en": {
		intro: "You are an expert Python animation engineer fluent in Manim Community Edition (v0.17+). " +
			"Write one complete, directly runnable Python script that animates the following calculation.\n\n" +
			"Operation: %s\n",
		inputs: "Formula A (LaTeX):\n%s\n\nFormula B (LaTeX, optional):\n%s\n\n",
		rules: `Hard requirements:
1. Start with: from manim import *
2. Define exactly one class %s(Scene) and put all animation logic in construct(self).
3. Render every formula with MathTex using raw strings r"...".
4. Keep the default black background.
5. Do not import os, sys, subprocess or shutil and do not touch the filesystem.
6. Output Python source only: no Markdown, no explanations.

Structure:
- Show the inputs near the top (VGroup, arrange(DOWN, aligned_edge=LEFT), scale about 0.5).
- Show each calculation step as its own MathTex below the previous one, using Transform or ReplacementTransform between steps; nothing may overlap or leave the frame.
- Show the final result centred, then self.wait(1.5).
- Position every object before animating it; avoid hard-coded coordinates, ThreeDScene, external assets and custom TexTemplates.
`,
		repair: `The script above failed to render. The renderer reported:

%s

Fix the script. Keep the class name %s, keep the same hard requirements and return the complete corrected Python source only.`,
		none: "(none)",
	},
	"zh": {
		intro: "你是一名精通 Manim Community Edition（v0.17+）的 Python 动画工程专家。" +
			"请生成一份完整、可直接运行的 Python 脚本，用动画演示以下数学计算过程。\n\n" +
			"操作类型：%s\n",
		inputs: "输入公式 A（LaTeX）：\n%s\n\n输入公式 B（可选，LaTeX）：\n%s\n\n",
		rules: `硬性要求：
1. 第一行必须是：from manim import *
2. 只定义一个继承 Scene 的类 %s，所有动画逻辑写在 construct(self) 中。
3. 所有公式使用 MathTex 渲染，LaTeX 字符串使用原始字符串 r"..."。
4. 保持默认黑色背景。
5. 禁止导入 os、sys、subprocess、shutil，禁止读写文件。
6. 只输出 Python 代码，不要输出 Markdown 或解释文字。

结构：
- 输入公式显示在画面上方（VGroup，arrange(DOWN, aligned_edge=LEFT)，缩放约 0.5）。
- 每个计算步骤是独立的 MathTex，依次出现在上一行下方，用 Transform 或 ReplacementTransform 表达推导关系，不允许重叠或越界。
- 最终结果居中显示，最后 self.wait(1.5)。
- 动画前完成定位，避免硬编码坐标，不使用 ThreeDScene、外部资源或自定义 TexTemplate。
`,
		repair: `上面的脚本渲染失败，渲染器输出如下：

%s

请修复脚本。类名保持为 %s，遵守同样的硬性要求，只返回完整的修正后 Python 代码。`,
		none: "（无）",
	},
}
