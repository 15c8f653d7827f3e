package dedupe

// CandidateSnapshot is the narrow projection of a posting/candidate pair
// the scorer needs — deliberately storage-agnostic (§4.2 operates over
// "CandidateSnapshot"s, not repo rows).
type CandidateSnapshot struct {
	CandidateID     string
	HasPosting      bool
	CanonicalHash   string
	NormalizedURL   string
	CanonicalURL    string
	ApplicationURL  string
	Title           string
	OrganizationName string
	Tags            []string
	Areas           []string
	DescriptionText string
	NEROrgs         []string
	NERLocations    []string
	NERPersons      []string
	NERDomains      []string
	NERContactDomains []string
}
