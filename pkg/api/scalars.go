package api

import (
	"encoding/json"
	"fmt"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
)

// JSONScalar represents opaque JSON values (presence cursors, etc.) that
// don't warrant their own GraphQL object type.
var JSONScalar = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "JSON",
	Description: "The `JSON` scalar type represents JSON values as specified by ECMA-404",
	Serialize: func(value interface{}) interface{} {
		return value
	},
	ParseValue: func(value interface{}) interface{} {
		if value == nil {
			return nil
		}
		switch v := value.(type) {
		case map[string]interface{}:
			return v
		case []interface{}:
			return v
		case string:
			var result interface{}
			if err := json.Unmarshal([]byte(v), &result); err != nil {
				return nil
			}
			return result
		default:
			return value
		}
	},
	ParseLiteral: func(valueAST ast.Value) interface{} {
		return parseLiteralValue(valueAST)
	},
})

func parseLiteralValue(valueAST ast.Value) interface{} {
	switch valueAST := valueAST.(type) {
	case *ast.ObjectValue:
		obj := make(map[string]interface{})
		for _, field := range valueAST.Fields {
			obj[field.Name.Value] = parseLiteralValue(field.Value)
		}
		return obj
	case *ast.ListValue:
		list := make([]interface{}, len(valueAST.Values))
		for i, value := range valueAST.Values {
			list[i] = parseLiteralValue(value)
		}
		return list
	case *ast.StringValue:
		return valueAST.Value
	case *ast.IntValue:
		var num int64
		fmt.Sscanf(valueAST.Value, "%d", &num)
		return num
	case *ast.FloatValue:
		var num float64
		fmt.Sscanf(valueAST.Value, "%f", &num)
		return num
	case *ast.BooleanValue:
		return valueAST.Value
	case *ast.EnumValue:
		return valueAST.Value
	default:
		return nil
	}
}
