package taskdef

var (
	mergeScalarFieldNames = []string{"name", "description", "category", "working_directory", "timeout"}
	mergeListFieldNames   = []string{"pre_steps", "steps", "post_steps", "cleanup_on_failure", "arguments"}
)

const mergeEnvironmentFieldName = "environment"

// mergeDefinitionDocuments overlays a child document onto its base document.
// Scalars follow the child when present, environment maps union with child
// keys winning, and step/argument lists concatenate base-first.
func mergeDefinitionDocuments(baseDocument map[string]any, childDocument map[string]any) map[string]any {
	merged := make(map[string]any, len(baseDocument)+len(childDocument))
	for key, value := range baseDocument {
		merged[key] = value
	}

	for _, fieldName := range mergeScalarFieldNames {
		if value, present := childDocument[fieldName]; present {
			merged[fieldName] = value
		}
	}

	if childEnvironment, present := childDocument[mergeEnvironmentFieldName]; present {
		merged[mergeEnvironmentFieldName] = mergeEnvironmentMaps(baseDocument[mergeEnvironmentFieldName], childEnvironment)
	}

	for _, fieldName := range mergeListFieldNames {
		baseList := asDocumentList(baseDocument[fieldName])
		childList := asDocumentList(childDocument[fieldName])
		if len(baseList) == 0 && len(childList) == 0 {
			continue
		}
		combined := make([]any, 0, len(baseList)+len(childList))
		combined = append(combined, baseList...)
		combined = append(combined, childList...)
		merged[fieldName] = combined
	}

	return merged
}

func mergeEnvironmentMaps(baseValue any, childValue any) map[string]any {
	merged := map[string]any{}
	for key, value := range asDocumentMap(baseValue) {
		merged[key] = value
	}
	for key, value := range asDocumentMap(childValue) {
		merged[key] = value
	}
	return merged
}

func asDocumentList(value any) []any {
	typed, isList := value.([]any)
	if !isList {
		return nil
	}
	return typed
}

func asDocumentMap(value any) map[string]any {
	switch typed := value.(type) {
	case map[string]any:
		return typed
	case map[any]any:
		converted := make(map[string]any, len(typed))
		for key, entry := range typed {
			keyString, isString := key.(string)
			if !isString {
				continue
			}
			converted[keyString] = entry
		}
		return converted
	default:
		return nil
	}
}
