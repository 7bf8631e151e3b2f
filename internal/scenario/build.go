package scenario

import (
	"errors"
	"fmt"
	"strings"

	"perfassess/internal/knowledge"
	"perfassess/internal/metric"
	"perfassess/internal/model"
	"perfassess/internal/trigger"
)

var (
	ErrDuplicateNodeID = errors.New("duplicate node id")
	ErrDuplicateTask   = errors.New("duplicate task name")
	ErrUnknownTask     = errors.New("unknown task")
	ErrUnknownConcept  = errors.New("unknown concept")
	ErrUnknownMember   = errors.New("unknown team member")
)

// Built is a definition turned into live nodes, ready for a session
type Built struct {
	Name        string
	Tasks       []*knowledge.Task
	Team        *model.TeamOrganization
	EndTriggers []trigger.Trigger
}

// NextNodeID returns the id after the highest one in use
func NextNodeID(used []int) int {
	next := 0
	for _, id := range used {
		if id >= next {
			next = id + 1
		}
	}
	return next
}

type builder struct {
	team     *model.TeamOrganization
	next     int
	concepts map[string]knowledge.ConceptNode
	tasks    map[string]int
}

// Build validates the definition and creates its tasks, concepts, conditions
// and triggers. Nodes without an authored id get one after the highest
// authored id, in authoring order.
func Build(def *Definition) (*Built, error) {
	if def == nil {
		return nil, ErrInvalidDefinition
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	used, err := authoredIDs(def)
	if err != nil {
		return nil, err
	}
	b := &builder{
		team:     model.NewTeamOrganization(def.Team...),
		next:     NextNodeID(used),
		concepts: make(map[string]knowledge.ConceptNode),
		tasks:    make(map[string]int),
	}
	if def.Learner != "" {
		if _, ok := b.team.Member(def.Learner); !ok {
			return nil, fmt.Errorf("%w: learner %q", ErrUnknownMember, def.Learner)
		}
		b.team.SetLearner(def.Learner)
	}

	// concepts and task ids first; triggers may reference either
	taskIDs := make([]int, len(def.Tasks))
	taskConcepts := make([][]knowledge.ConceptNode, len(def.Tasks))
	for i := range def.Tasks {
		td := &def.Tasks[i]
		taskIDs[i] = b.id(td.NodeID)
		key := strings.ToLower(td.Name)
		if _, dup := b.tasks[key]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTask, td.Name)
		}
		b.tasks[key] = taskIDs[i]
		for j := range td.Concepts {
			c, err := b.concept(&td.Concepts[j])
			if err != nil {
				return nil, fmt.Errorf("task %q: %w", td.Name, err)
			}
			taskConcepts[i] = append(taskConcepts[i], c)
		}
	}

	built := &Built{Name: def.Name, Team: b.team}
	for i := range def.Tasks {
		task, err := b.task(&def.Tasks[i], taskIDs[i], taskConcepts[i])
		if err != nil {
			return nil, err
		}
		built.Tasks = append(built.Tasks, task)
	}
	for i := range def.EndTriggers {
		tr, err := b.trigger(&def.EndTriggers[i])
		if err != nil {
			return nil, fmt.Errorf("session end trigger: %w", err)
		}
		built.EndTriggers = append(built.EndTriggers, tr)
	}
	return built, nil
}

func authoredIDs(def *Definition) ([]int, error) {
	var used []int
	seen := make(map[int]string)
	add := func(id *int, name string) error {
		if id == nil {
			return nil
		}
		if other, dup := seen[*id]; dup {
			return fmt.Errorf("%w: %d used by %q and %q", ErrDuplicateNodeID, *id, other, name)
		}
		seen[*id] = name
		used = append(used, *id)
		return nil
	}
	var walk func(cs []ConceptDef) error
	walk = func(cs []ConceptDef) error {
		for i := range cs {
			if err := add(cs[i].NodeID, cs[i].Name); err != nil {
				return err
			}
			if err := walk(cs[i].Concepts); err != nil {
				return err
			}
		}
		return nil
	}
	for i := range def.Tasks {
		if err := add(def.Tasks[i].NodeID, def.Tasks[i].Name); err != nil {
			return nil, err
		}
		if err := walk(def.Tasks[i].Concepts); err != nil {
			return nil, err
		}
	}
	return used, nil
}

func (b *builder) id(authored *int) int {
	if authored != nil {
		return *authored
	}
	id := b.next
	b.next++
	return id
}

type lessonHolder interface {
	AddLessonAssessment(knowledge.LessonAssessment)
}

// authoredConcept is what both concept kinds expose to the builder
type authoredConcept interface {
	knowledge.ConceptNode
	lessonHolder
	SetPriority(p *int) error
	SetScenarioSupport(support bool)
}

func (b *builder) concept(cd *ConceptDef) (knowledge.ConceptNode, error) {
	nodeID := b.id(cd.NodeID)
	var node authoredConcept
	if len(cd.Concepts) > 0 {
		children := make([]knowledge.ConceptNode, 0, len(cd.Concepts))
		weights := make([]*float64, 0, len(cd.Concepts))
		for i := range cd.Concepts {
			child, err := b.concept(&cd.Concepts[i])
			if err != nil {
				return nil, err
			}
			children = append(children, child)
			weights = append(weights, cd.Concepts[i].Weight)
		}
		ic, err := knowledge.NewIntermediateConcept(nodeID, cd.Name, children)
		if err != nil {
			return nil, err
		}
		for i, w := range weights {
			if w != nil {
				ic.SetChildArgs(children[i].ID(), &metric.Args{Weight: w})
			}
		}
		node = ic
	} else {
		conditions := make([]knowledge.Condition, 0, len(cd.Conditions))
		for i := range cd.Conditions {
			cond, err := b.condition(&cd.Conditions[i])
			if err != nil {
				return nil, fmt.Errorf("concept %q: %w", cd.Name, err)
			}
			conditions = append(conditions, cond)
		}
		c, err := knowledge.NewConcept(nodeID, cd.Name, conditions)
		if err != nil {
			return nil, err
		}
		node = c
	}

	if err := node.SetPriority(cd.Priority); err != nil {
		return nil, fmt.Errorf("concept %q: %w", cd.Name, err)
	}
	node.SetScenarioSupport(cd.ScenarioSupport)
	if err := addLessons(node, cd.Survey, cd.AssessConditions); err != nil {
		return nil, fmt.Errorf("concept %q: %w", cd.Name, err)
	}
	key := strings.ToLower(cd.Name)
	if _, dup := b.concepts[key]; !dup {
		b.concepts[key] = node
	}
	return node, nil
}

func addLessons(node lessonHolder, survey *SurveyDef, assessConditions bool) error {
	if survey != nil {
		la, err := knowledge.NewScoredSurveyAssessment(survey.Name, survey.AboveAt, survey.AtAt)
		if err != nil {
			return err
		}
		node.AddLessonAssessment(la)
	}
	if assessConditions {
		node.AddLessonAssessment(knowledge.ConditionsLessonAssessment{})
	}
	return nil
}

func (b *builder) condition(cd *ConditionDef) (knowledge.Condition, error) {
	var args *metric.Args
	if cd.Weight != nil {
		args = &metric.Args{Weight: cd.Weight}
	}
	for _, member := range append(append([]string(nil), cd.TeamMembers...), cd.Member) {
		if member == "" {
			continue
		}
		if _, ok := b.team.Member(member); !ok {
			return nil, fmt.Errorf("%w: condition %q references %q", ErrUnknownMember, cd.Name, member)
		}
	}
	switch cd.Kind {
	case ConditionObserved:
		return knowledge.NewObservedCondition(cd.Name, args, cd.TeamMembers)
	case ConditionLearnerAction:
		return knowledge.NewLearnerActionCondition(cd.Name, cd.Action, args, cd.TeamMembers)
	case ConditionReachLocation:
		return knowledge.NewReachLocationCondition(cd.Name, *cd.Goal, cd.Radius, b.team, cd.Member, args)
	}
	return nil, fmt.Errorf("%w: condition kind %q", ErrInvalidDefinition, cd.Kind)
}

func (b *builder) task(td *TaskDef, nodeID int, concepts []knowledge.ConceptNode) (*knowledge.Task, error) {
	start, err := b.triggers(td.StartTriggers)
	if err != nil {
		return nil, fmt.Errorf("task %q start trigger: %w", td.Name, err)
	}
	end, err := b.triggers(td.EndTriggers)
	if err != nil {
		return nil, fmt.Errorf("task %q end trigger: %w", td.Name, err)
	}
	task, err := knowledge.NewTask(nodeID, td.Name, start, end, concepts)
	if err != nil {
		return nil, err
	}
	for i, c := range concepts {
		if w := td.Concepts[i].Weight; w != nil {
			task.SetChildArgs(c.ID(), &metric.Args{Weight: w})
		}
	}
	if err := task.SetPriority(td.Priority); err != nil {
		return nil, fmt.Errorf("task %q: %w", td.Name, err)
	}
	task.SetScenarioSupport(td.ScenarioSupport)
	task.SetInitialLoad(td.Difficulty, td.Stress)
	if err := addLessons(task, td.Survey, false); err != nil {
		return nil, fmt.Errorf("task %q: %w", td.Name, err)
	}
	return task, nil
}

func (b *builder) triggers(defs []TriggerDef) ([]trigger.Trigger, error) {
	out := make([]trigger.Trigger, 0, len(defs))
	for i := range defs {
		tr, err := b.trigger(&defs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, nil
}

func (b *builder) trigger(td *TriggerDef) (trigger.Trigger, error) {
	switch td.Kind {
	case TriggerLocation:
		return trigger.NewLocationTrigger(td.Name, *td.Goal, td.Radius, td.RequiresMovement, td.Options)
	case TriggerEntityLocation:
		if _, ok := b.team.Member(td.Member); !ok {
			return nil, fmt.Errorf("%w: trigger %q references %q", ErrUnknownMember, td.Name, td.Member)
		}
		return trigger.NewEntityLocationTrigger(td.Name, td.Member, b.team, *td.Goal, td.Radius, td.Options)
	case TriggerConceptAssessment:
		level, err := model.ParseAssessmentLevel(string(td.Level))
		if err != nil {
			return nil, fmt.Errorf("%w: trigger %q: %w", ErrInvalidDefinition, td.Name, err)
		}
		return trigger.NewConceptAssessmentTrigger(td.Name, td.Concept, level, td.Options)
	case TriggerConceptEnded:
		c, ok := b.concepts[strings.ToLower(td.Concept)]
		if !ok {
			return nil, fmt.Errorf("%w: trigger %q references %q", ErrUnknownConcept, td.Name, td.Concept)
		}
		return trigger.NewConceptEndedTrigger(td.Name, c, td.Options)
	case TriggerTaskEnded:
		id, ok := b.tasks[strings.ToLower(td.Task)]
		if !ok {
			return nil, fmt.Errorf("%w: trigger %q references %q", ErrUnknownTask, td.Name, td.Task)
		}
		return trigger.NewTaskEndedTrigger(td.Name, id, td.Options)
	case TriggerLearnerAction:
		return trigger.NewLearnerActionTrigger(td.Name, td.Action, td.Options)
	case TriggerStrategyApplied:
		return trigger.NewStrategyAppliedTrigger(td.Name, td.Strategy, td.Options)
	case TriggerManual:
		return trigger.NewManualTrigger(td.Name, td.Options)
	case TriggerScenarioStart:
		return trigger.NewScenarioStartTrigger(td.Name, td.Options)
	}
	return nil, fmt.Errorf("%w: trigger kind %q", ErrInvalidDefinition, td.Kind)
}
