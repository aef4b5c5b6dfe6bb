package samplesheet

// Sample is one output bucket: a sheet row or a synthetic bucket.
type Sample struct {
	ID      int
	Name    string
	Project string
	I7, I5  string // as matched against reads, after reverse complement
	Writer  int    // id of the sample owning the output files for Name
	Number  int    // 1-based position of Name among distinct names, 0 for synthetic buckets
}

// Synthetic reports whether the sample is Undetermined or Ambiguous.
func (s Sample) Synthetic() bool {
	return s.Number == 0
}

// Samples is the ordered sample list: sheet rows, then Undetermined, then
// Ambiguous.
type Samples struct {
	List         []Sample
	Undetermined int
	Ambiguous    int
	// Projects maps job numbers to their sample ids. NoValue holds every id.
	Projects map[string][]int
}

func newSamples(rows []Row, opts Options) *Samples {
	undetermined, ambiguous := opts.UndeterminedLabel, opts.AmbiguousLabel
	if undetermined == "" {
		undetermined = UndeterminedLabel
	}
	if ambiguous == "" {
		ambiguous = AmbiguousLabel
	}

	s := &Samples{
		List:     make([]Sample, 0, len(rows)+2),
		Projects: make(map[string][]int),
	}
	firstByName := make(map[string]int)
	for id, row := range rows {
		writer, ok := firstByName[row.SampleID]
		if !ok {
			writer = id
			firstByName[row.SampleID] = id
		}
		s.List = append(s.List, Sample{
			ID:      id,
			Name:    row.SampleID,
			Project: row.Project,
			Writer:  writer,
			Number:  len(firstByName),
		})
		if ok {
			s.List[id].Number = s.List[writer].Number
		}
		if row.Project != NoValue {
			s.Projects[row.Project] = append(s.Projects[row.Project], id)
		}
	}

	s.Undetermined = len(s.List)
	s.List = append(s.List, Sample{ID: s.Undetermined, Name: undetermined, Project: NoValue, Writer: s.Undetermined})
	s.Ambiguous = len(s.List)
	s.List = append(s.List, Sample{ID: s.Ambiguous, Name: ambiguous, Project: NoValue, Writer: s.Ambiguous})

	all := make([]int, len(s.List))
	for i := range all {
		all[i] = i
	}
	s.Projects[NoValue] = all
	return s
}

// Len returns the number of samples including the synthetic buckets.
func (s *Samples) Len() int {
	return len(s.List)
}

// Writers returns the ids that own output files, in id order.
func (s *Samples) Writers() []int {
	var ids []int
	for _, smp := range s.List {
		if smp.Writer == smp.ID {
			ids = append(ids, smp.ID)
		}
	}
	return ids
}
