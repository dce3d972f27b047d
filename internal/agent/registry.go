package agent

import (
	"fmt"

	"testforge/internal/genai"
	"testforge/internal/shared/model"
)

// specs 闭集：四种 Agent 的固定参数
var specs = []spec{
	{
		kind:         model.AgentKindCoverageMatrix,
		artifactKind: model.ArtifactKindCoverageMatrix,
		title:        "测试覆盖矩阵",
		system: "你是资深测试架构师。根据给定的项目资料输出一份测试覆盖矩阵，" +
			"以 Markdown 表格呈现：行是功能模块，列是测试类型（功能/边界/异常/性能/安全），" +
			"单元格标注覆盖优先级（P0/P1/P2）并附一句覆盖要点。不要输出资料中不存在的模块。",
		task: "请为以下项目生成测试覆盖矩阵。",
	},
	{
		kind:         model.AgentKindChecklist,
		artifactKind: model.ArtifactKindChecklist,
		title:        "手工测试检查清单",
		system: "你是资深测试工程师。根据给定的项目资料输出一份可直接执行的手工测试检查清单，" +
			"按功能模块分组，每条包含前置条件、操作步骤、预期结果。" +
			"使用 Markdown 任务列表语法（- [ ]）。",
		task: "请为以下项目生成手工测试检查清单。",
	},
	{
		kind:         model.AgentKindAutomationScript,
		artifactKind: model.ArtifactKindAutomationScript,
		title:        "自动化测试脚本",
		system: "你是测试开发工程师。根据给定的项目资料输出自动化测试脚本骨架，" +
			"优先 API 层用例，使用 pytest 风格组织，每个用例附中文注释说明验证点。" +
			"只输出代码块与必要的标题。",
		task: "请为以下项目生成自动化测试脚本。",
	},
	{
		kind:         model.AgentKindBehaviorScenario,
		artifactKind: model.ArtifactKindBehaviorScenario,
		title:        "行为场景用例",
		system: "你是 BDD 测试专家。根据给定的项目资料输出 Gherkin 格式的行为场景，" +
			"每个场景遵循 Given/When/Then 结构，覆盖主流程与关键异常分支，" +
			"场景描述使用中文。",
		task: "请为以下项目生成行为场景用例。",
	},
}

// Registry 按 Agent 种类查找执行器的查找表
type Registry struct {
	executors map[model.AgentKind]Executor
}

// NewRegistry 创建注册表，内置全部四种执行器
func NewRegistry(svc *genai.Service) *Registry {
	executors := make(map[model.AgentKind]Executor, len(specs))
	for _, s := range specs {
		executors[s.kind] = &executor{spec: s, genai: svc}
	}
	return &Registry{executors: executors}
}

// Get 查找执行器，未注册的种类返回错误
func (r *Registry) Get(kind model.AgentKind) (Executor, error) {
	e, ok := r.executors[kind]
	if !ok {
		return nil, fmt.Errorf("no executor registered for agent kind %q", kind)
	}
	return e, nil
}

// Kinds 已注册的 Agent 种类
func (r *Registry) Kinds() []model.AgentKind {
	kinds := make([]model.AgentKind, 0, len(r.executors))
	for _, s := range specs {
		kinds = append(kinds, s.kind)
	}
	return kinds
}
