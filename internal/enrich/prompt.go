package enrich

import (
	"fmt"
	"strings"

	"github.com/dgallion1/specgest/internal/doctree"
)

const questionPrompt = `你是建筑工程标准规范的检索助手。请阅读下面的规范条文，生成便于检索的提示信息。

要求：
- 生成 3 个用户可能提出的、能由该条文回答的问题，问题应具体、互不重复；
- 生成 3 到 8 个标签，覆盖材料、构件、性能指标、施工工序等关键概念，用中文逗号分隔；
- 只依据条文内容，不要编造条文中没有的信息。

只返回如下 JSON，不要输出其他内容：
{"question1": "...", "question2": "...", "question3": "...", "tags": "标签1，标签2，标签3"}`

const keywordPrompt = `你是建筑工程标准规范的检索助手。请将用户的检索需求拆解为用于向量检索的关键词，按以下六类给出：

- material_keywords：涉及的材料；
- functional_keywords：功能或性能要求；
- component_keywords：相关构件或部位；
- process_keywords：施工或检验工序；
- similar_task_keywords：相近的检索任务表述；
- combinational_keywords：上述概念的组合短语。

每类给出 0 到 5 个简短关键词。只返回 JSON 对象，键名与上面一致，值为字符串数组。`

// QuestionPrompt builds the enrichment prompt for one chunk.
func QuestionPrompt(c doctree.Chunk, content string) string {
	var sb strings.Builder
	sb.WriteString(questionPrompt)
	sb.WriteString("\n\n---\n")
	if c.ParentTitle != "" && c.ParentSection != c.Section {
		fmt.Fprintf(&sb, "章节：%s %s > %s %s\n", c.ParentSection, c.ParentTitle, c.Section, c.Title)
	} else {
		fmt.Fprintf(&sb, "章节：%s %s\n", c.Section, c.Title)
	}
	fmt.Fprintf(&sb, "类别：%s\n", c.TextRole)
	sb.WriteString("---\n")
	sb.WriteString(content)
	return sb.String()
}

// KeywordPrompt builds the keyword expansion prompt for a query.
func KeywordPrompt(query string) string {
	return keywordPrompt + "\n\n用户检索需求：" + query
}

// ChatPrompt asks for an answer grounded in the supplied context.
func ChatPrompt(context, question string) string {
	return fmt.Sprintf(`基于以下上下文信息回答问题：

上下文：
%s

问题：%s

请基于上下文信息给出准确、详细的回答。如果上下文中没有相关信息，请说明无法基于现有信息回答。`, context, question)
}
