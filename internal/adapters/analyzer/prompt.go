package analyzer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/psyassess/assessd/internal/domain/model"
)

const defaultSystemPrompt = "你是一位专业的心理分析师。请结合被评估人的基础信息、绘画描述和量表结果，" +
	"生成结构清晰、分析深入、建议具体的综合心理评估报告。"

const defaultPromptTemplate = `请根据以下信息撰写心理评估报告。

【基础信息】
姓名：{{.SubjectName}}
性别：{{or .Gender "未提供"}}
年龄：{{if .Age}}{{deref .Age}}{{else}}未提供{{end}}
身份证号：{{or .IDCard "未提供"}}
职业：{{or .Occupation "未提供"}}
案件名称：{{or .CaseName "未提供"}}
案件类型：{{or .CaseType "未提供"}}
身份类型：{{or .IdentityType "未提供"}}
人员类型：{{or .PersonType "未提供"}}
婚姻状况：{{or .MaritalStatus "未提供"}}
子女情况：{{or .ChildrenInfo "未提供"}}
有无犯罪记录：{{if .CriminalRecord}}是{{else}}否{{end}}
健康状况：{{or .HealthStatus "未提供"}}
户籍地：{{or .Domicile "未提供"}}

【绘画】
{{if .ImagePath}}图片：{{.ImagePath}}{{else}}无{{end}}

【量表】
类型：{{or .QuestionnaireType "未知"}}
{{questionnaire .QuestionnaireData}}
`

func newPromptTemplate(text string) (*template.Template, error) {
	if strings.TrimSpace(text) == "" {
		text = defaultPromptTemplate
	}
	tmpl, err := template.New("prompt").
		Option("missingkey=error").
		Funcs(template.FuncMap{
			"deref":         func(v *int) int { return *v },
			"questionnaire": formatQuestionnaire,
		}).
		Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	return tmpl, nil
}

func renderPrompt(tmpl *template.Template, input model.AnalysisInput) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, input); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}

// formatQuestionnaire pretty-prints questionnaire answers, keeping non-JSON input verbatim.
func formatQuestionnaire(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "无"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
