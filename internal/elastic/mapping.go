package elastic

// papersMapping is the canonical index schema. external_id is a keyword
// for exact lookups, title carries a keyword subfield for exact-title
// matching, and the text fields feed BM25 scoring. One shard and no
// replicas: the search tier is a single node.
func papersMapping() map[string]any {
	return map[string]any{
		"settings": map[string]any{
			"number_of_shards":   1,
			"number_of_replicas": 0,
			"analysis": map[string]any{
				"analyzer": map[string]any{
					"default": map[string]any{"type": "standard"},
				},
			},
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				"external_id": map[string]any{"type": "keyword"},
				"title": map[string]any{
					"type":     "text",
					"analyzer": "standard",
					"fields": map[string]any{
						"keyword": map[string]any{
							"type":         "keyword",
							"ignore_above": 256,
						},
					},
				},
				"summary": map[string]any{
					"type":     "text",
					"analyzer": "standard",
				},
				"full_text": map[string]any{
					"type":     "text",
					"analyzer": "standard",
				},
				"authors": map[string]any{
					"type":     "text",
					"analyzer": "standard",
				},
				"categories": map[string]any{"type": "keyword"},
				"published_at": map[string]any{
					"type":   "date",
					"format": "strict_date_optional_time||epoch_millis",
				},
				"created_at": map[string]any{
					"type":   "date",
					"format": "strict_date_optional_time||epoch_millis",
				},
			},
		},
	}
}
