package analyzer

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/yourbasic/graph"

	"github.com/vitebski/calc-columns/internal/formula"
	"github.com/vitebski/calc-columns/pkg/models"
)

// DependencyAnalyzer works out how the calculated columns of one upload
// depend on each other and in which order they can be evaluated
type DependencyAnalyzer struct {
	BaseColumns     map[string]bool
	Columns         []models.CalculatedColumn
	Parsed          map[string]*formula.ParsedFormula
	DependencyGraph *graph.Mutable
	ColumnIndexMap  map[string]int
	IndexColumnMap  map[int]string
	Categories      map[string]models.ColumnCategory
	Problems        map[string][]string
	CircularGroups  [][]string
	Logger          *logrus.Logger
}

// NewDependencyAnalyzer creates an analyzer for the given upload columns and
// calculated column definitions
func NewDependencyAnalyzer(baseColumns []string, columns []models.CalculatedColumn, logger *logrus.Logger) *DependencyAnalyzer {
	base := make(map[string]bool, len(baseColumns))
	for _, c := range baseColumns {
		base[c] = true
	}

	// oldest first so the evaluation order is stable
	sorted := make([]models.CalculatedColumn, len(columns))
	copy(sorted, columns)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	return &DependencyAnalyzer{
		BaseColumns:    base,
		Columns:        sorted,
		Parsed:         make(map[string]*formula.ParsedFormula),
		ColumnIndexMap: make(map[string]int),
		IndexColumnMap: make(map[int]string),
		Categories:     make(map[string]models.ColumnCategory),
		Problems:       make(map[string][]string),
		Logger:         logger,
	}
}

// Analyze parses every formula, builds the dependency graph and categorises
// each column. An edge v -> w means column w references column v. Calling
// it again starts from scratch.
func (da *DependencyAnalyzer) Analyze() error {
	da.Parsed = make(map[string]*formula.ParsedFormula)
	da.ColumnIndexMap = make(map[string]int)
	da.IndexColumnMap = make(map[int]string)
	da.Categories = make(map[string]models.ColumnCategory)
	da.Problems = make(map[string][]string)

	for i, col := range da.Columns {
		if _, exists := da.ColumnIndexMap[col.ColumnName]; exists {
			return fmt.Errorf("calculated column %q is defined more than once", col.ColumnName)
		}
		da.ColumnIndexMap[col.ColumnName] = i
		da.IndexColumnMap[i] = col.ColumnName
	}

	da.DependencyGraph = graph.New(len(da.Columns))

	for i, col := range da.Columns {
		parsed, err := formula.Parse(col.Formula)
		if err != nil {
			da.Logger.Warningf("Formula of column %s does not parse: %v", col.ColumnName, err)
			da.markBroken(col.ColumnName, err.Error())
			continue
		}
		da.Parsed[col.ColumnName] = parsed

		for _, ref := range parsed.Variables {
			if da.BaseColumns[ref] {
				continue
			}
			if j, ok := da.ColumnIndexMap[ref]; ok {
				da.DependencyGraph.Add(j, i)
				continue
			}
			da.markBroken(col.ColumnName, formula.UnknownColumnError(ref))
		}
	}

	circular := da.findCircularColumns()
	for name := range circular {
		da.Categories[name] = models.Circular
	}

	order := da.GetEvaluationOrder()
	for _, name := range order {
		if _, done := da.Categories[name]; done {
			continue
		}

		category := models.Base
		for _, dep := range da.Dependencies(name) {
			switch da.Categories[dep] {
			case models.Circular, models.Broken:
				da.markBroken(name, fmt.Sprintf("Depends on invalid column '%s'", dep))
			default:
				category = models.Derived
			}
		}
		if _, broken := da.Categories[name]; !broken {
			da.Categories[name] = category
		}
	}

	da.Logger.Debugf("Analyzed %d calculated columns, %d circular", len(da.Columns), len(circular))
	return nil
}

func (da *DependencyAnalyzer) markBroken(name, problem string) {
	da.Categories[name] = models.Broken
	da.Problems[name] = append(da.Problems[name], problem)
}

// Dependencies returns the calculated columns that name references directly
func (da *DependencyAnalyzer) Dependencies(name string) []string {
	w, ok := da.ColumnIndexMap[name]
	if !ok || da.DependencyGraph == nil {
		return nil
	}

	var deps []string
	for v := 0; v < da.DependencyGraph.Order(); v++ {
		if da.DependencyGraph.Edge(v, w) {
			deps = append(deps, da.IndexColumnMap[v])
		}
	}
	return deps
}

// findCircularColumns records the reference cycles, including columns that
// reference themselves, in CircularGroups and Problems
func (da *DependencyAnalyzer) findCircularColumns() map[string]bool {
	circular := make(map[string]bool)
	da.CircularGroups = [][]string{}

	if da.DependencyGraph == nil {
		return circular
	}

	for _, component := range graph.StrongComponents(da.DependencyGraph) {
		if len(component) == 1 && !da.DependencyGraph.Edge(component[0], component[0]) {
			continue
		}

		group := make([]string, 0, len(component))
		for _, v := range component {
			name := da.IndexColumnMap[v]
			circular[name] = true
			group = append(group, name)
		}
		sort.Strings(group)
		da.CircularGroups = append(da.CircularGroups, group)
	}

	sort.Slice(da.CircularGroups, func(i, j int) bool {
		return da.CircularGroups[i][0] < da.CircularGroups[j][0]
	})

	for _, group := range da.CircularGroups {
		for _, name := range group {
			da.Problems[name] = append(da.Problems[name], fmt.Sprintf("Circular reference between columns: %v", group))
		}
	}
	return circular
}

// GetEvaluationOrder returns every calculated column so that each one comes
// after the columns it references. Edges inside a cycle are ignored; those
// columns are never evaluated anyway.
func (da *DependencyAnalyzer) GetEvaluationOrder() []string {
	if da.DependencyGraph == nil {
		return nil
	}

	acyclic := graph.New(da.DependencyGraph.Order())
	for v := 0; v < da.DependencyGraph.Order(); v++ {
		if da.isCircular(v) {
			continue
		}
		da.DependencyGraph.Visit(v, func(w int, c int64) bool {
			if !da.isCircular(w) {
				acyclic.AddCost(v, w, c)
			}
			return false
		})
	}

	order, ok := graph.TopSort(acyclic)
	if !ok {
		// cannot happen once cycle members are cut out; fall back to definition order
		da.Logger.Warning("Dependency graph still cyclic after removing circular columns")
		order = make([]int, acyclic.Order())
		for i := range order {
			order[i] = i
		}
	}

	names := make([]string, 0, len(order))
	for _, v := range order {
		names = append(names, da.IndexColumnMap[v])
	}
	return names
}

func (da *DependencyAnalyzer) isCircular(v int) bool {
	return da.Categories[da.IndexColumnMap[v]] == models.Circular
}

// Evaluable reports whether the column can be computed
func (da *DependencyAnalyzer) Evaluable(name string) bool {
	category, ok := da.Categories[name]
	return ok && category != models.Circular && category != models.Broken
}
